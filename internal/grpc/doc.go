// Package grpc serves the standard gRPC health protocol for the scrape
// worker. Serving status follows the same dependency checks as the HTTP
// health endpoint.
//
// # Usage
//
//	srv := scrapegrpc.New(map[string]scrapegrpc.Check{"store": store.Ping}, logger)
//	go srv.Watch(ctx, 10*time.Second)
//	lis, _ := net.Listen("tcp", ":9090")
//	srv.Serve(lis)
package grpc
