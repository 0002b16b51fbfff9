// Package pulse is the embedding surface of the Pulse tracker.
//
// Init wires storage, license validation, consent management and event
// tracking into a Client:
//
//	cfg, err := config.Load("")
//	if err != nil { ... }
//	client, err := pulse.Init(ctx, cfg, pulse.WithEnvironment(env))
//	if err != nil { ... }
//	defer client.Close(ctx)
//
//	client.TrackEvent(pulse.EventCustom, map[string]any{"plan": "pro"})
//
// There is no package-level client; callers keep the value Init returns.
// A client whose tracker refused to start (Do Not Track, invalid license)
// is still usable and every tracking call on it is a no-op; Err reports
// why.
package pulse
