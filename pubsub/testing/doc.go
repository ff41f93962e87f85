// Package testing provides a reusable contract test suite for transport
// implementations.
//
// Every transport must honor the same behavioral contract regardless of how
// it moves bytes: delivery of payload and metadata, monotonically increasing
// send clocks, zero-copy writer semantics, and idempotent teardown. This
// package encodes that contract once so each implementation only has to
// supply a factory.
//
// # Usage
//
//	func TestMyTransport(t *testing.T) {
//		factory := func() transport.ITransport {
//			return mytransport.New(mytransport.Options{})
//		}
//		bustesting.RunTransportTests(t, "MyTransport", factory)
//	}
//
// The factory is invoked once per subtest, so each test case starts from a
// fresh transport instance. Transports whose metadata queries legitimately
// return ok == false (for example networked transports that cannot observe
// remote publishers) still pass: count assertions only apply when the
// transport claims to know the value.
package testing
