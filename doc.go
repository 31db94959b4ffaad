// Package eventrx adapts named-event sources into observable sequences.
//
// A source is anything that can register a listener under an event name and
// later remove exactly that listener (emitter.Emitter). An EventMap says which
// of the source's event names produce items, which produce a terminal error
// and which produce completion. FromEvents combines the two into a cold
// observable.Observable: every subscription attaches its own listeners and
// detaches them again when the subscription ends.
//
// Basic example:
//
//	r, _ := stream.NewReadable(file)
//	obs, err := eventrx.FromEvents[[]byte](eventrx.ReadableStreamMap, r)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sub, err := obs.Subscribe(ctx, observable.Observer[[]byte]{
//	    Next:     func(chunk []byte) { os.Stdout.Write(chunk) },
//	    Error:    func(err error) { log.Println("Uh oh!", err) },
//	    Complete: func() { log.Println("done") },
//	})
//	defer sub.Unsubscribe()
//
// Predefined maps:
//   - ReadableStreamMap: data / error / end, close
//   - ServerMap: request / error / close, projected to Exchange
//   - RequestMap: response / error / abort, aborted, close, end
//   - ResponseMap: data / error / abort, aborted, close, end
//   - ButtonMap: click
//   - InputMap: focus, blur, keyup, change
//   - DefaultMap: no events
//
// Map Registry:
// Maps are registered by name. The default registry holds every predefined
// map; applications add their own with RegisterMap or load them from YAML:
//
//	maps, err := eventrx.LoadMaps(file)
//	for _, m := range maps {
//	    eventrx.RegisterMap(m)
//	}
//
//	m, err := eventrx.LookupMap("readable")
//
// Options:
//   - WithName: name used in logs, metrics and spans. Default is the map name.
//   - WithLogger: set the adapter logger.
//   - WithMetrics: enable/disable OpenTelemetry metrics. Default is true.
//   - WithTracing: enable/disable OpenTelemetry tracing. Default is true.
//   - WithRequireNexts: reject maps without item events. Default is false.
package eventrx
