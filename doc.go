// Package voicebridge implements a session-oriented bridge between browser
// clients and the Azure OpenAI Realtime API for speech-to-speech interaction.
//
// The bridge accepts microphone audio per client session, detects utterance
// boundaries with a voice-activity gate, submits finalized utterances over a
// persistent realtime WebSocket connection, and relays the model's streamed
// text and audio back to the client as it arrives.
//
// Core pieces:
//   - RealtimeClient: one persistent upstream connection per session with
//     event dispatch, utterance submission, and a single-shot
//     response-completion primitive (AwaitResponse).
//   - Gate: frame-level voice activity detection plus utterance boundary
//     decisions (trailing silence and max-duration cutoff).
//   - CaptureWorker: per-session capture loop feeding the gate and handing
//     finished utterances to the realtime client.
//   - Manager: session registry routing client commands to capture workers
//     and upstream events to the downstream delivery channel.
//   - Audio conversion helpers: float <-> PCM16, base64, G.711 decode and
//     WAV containers for playable delivery.
//
// Basic usage:
//
//	cfg := voicebridge.Config{
//		ResourceEndpoint: "https://your-resource.openai.azure.com",
//		Deployment:       "gpt-4o-realtime-preview",
//		APIVersion:       "2025-04-01-preview",
//		Credential:       voicebridge.APIKey("your-api-key"),
//	}
//	mgr := voicebridge.NewManager(cfg)
//	// on each accepted downstream websocket:
//	mgr.HandleConnect(ctx, sessionID, conn)
//
// Every failure path yields a structured message on the downstream
// connection rather than a silent drop; only loss of the downstream
// transport itself tears the session down.
package voicebridge
