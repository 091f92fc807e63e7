// Package vecgate provides a Go client for the vecgate gRPC API.
//
// The client speaks the JSON codec registered by the server, so no generated
// protobuf code is needed on either side.
//
//	client, _ := vecgate.New("localhost:9090", vecgate.WithAPIKey("secret"))
//	defer client.Close()
//
//	_, _ = client.Upsert(ctx, "docs", []vecgate.Record{{ID: "1", Text: "hello"}})
//	hits, _ := client.Search("docs").Text("hello").Where("lang", "en").Limit(5).Do(ctx)
//
// Errors returned by the client wrap the same sentinels the server classifies
// with, so errors.Is(err, vecgate.ErrNotFound) works across the wire.
package vecgate
