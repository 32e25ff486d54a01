/*
Package foreign bridges node implementations that live outside the Go type
system (Lua scripts, external processes, plugins) into the engine.

An Adapter wraps a ports.ForeignNode and makes it indistinguishable from a
native node: same input contract, same error taxonomy, same cancellation and
lifetime semantics. The adapter is the only place where foreign values are
inspected; anything malformed is reported as a
*domain.ForeignContractViolationError and foreign error values are reduced to
their text before they cross into the engine.

	adapter, err := foreign.New("summarize", node, foreign.WithGracePeriod(2*time.Second))
	if err != nil {
		return err
	}
	defer adapter.Close(context.Background())
*/
package foreign
