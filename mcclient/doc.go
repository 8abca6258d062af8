// Package mcclient implements an MC protocol 1E frame client for Mitsubishi PLCs.
//
// A Client owns one TCP connection and a polled set of items. All protocol state lives on a
// single event-loop goroutine; public methods post events to it and return without waiting
// on the transport. Every scheduled read or write cycle completes with exactly one callback,
// invoked on the event-loop goroutine. Failures are reported through item quality, never as
// errors crossing the callback boundary.
//
// Example:
//
//	cfg, err := mcclient.NewConnectionConfig("192.168.0.10", 5000, mcclient.WithTimeout(2*time.Second))
//	if err != nil {
//		return err
//	}
//	client, err := mcclient.NewClient(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	_ = client.Open(func(err error) { ... })
//	client.AddItems([]string{"D100", "X17,8", "DFLOAT200"})
//	_ = client.ReadAllItems(func(anyBad bool, values map[string]any) { ... })
//
// The wire protocol carries no transaction identifier, so at most one request is in flight
// and replies are matched to the oldest outstanding request.
package mcclient
