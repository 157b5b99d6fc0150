// Package transport holds the ingestion front ends and the contract they share.
//
// A Handler turns Options into a running Process. The gateway looks
// handlers up by name in a Registry, so adding a transport means
// registering one more Handler:
//
//	reg := transport.DefaultRegistry()
//	h, _ := reg.Lookup("http")
//	proc, err := h.Create(ctx, transport.Options{ID: "rest", Addr: ":8080", Pipeline: p})
//
// Every handler follows the same steps per request: pull credentials or
// the bearer token off the request, let the auth guard decide, decode the
// body with the negotiated codec, hand it to the Pipeline, and translate
// the outcome into its own response. The Pipeline is the only thing
// handlers share.
//
// # Built-in handlers
//
//   - http: POST /session, POST /user, POST /metrics, GET /health
//   - websocket: GET /ws, one metric per frame, inactive on disconnect
//   - grpc: beacon.v1.Ingest OpenSession and Publish over protobuf Struct
package transport
