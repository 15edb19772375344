// Package scanning provides the concurrent TCP reachability engine for portsweep.
//
// The engine takes an already validated address sequence and port list,
// attempts one TCP connection per (address, port) pair and classifies every
// attempt into one of four outcomes: open, refused, timeout or unreachable.
//
// # Main Components
//
//   - BuildTargets: combines addresses and ports into a lazy, address-major
//     sequence of Target values.
//   - Prober: performs a single connection attempt with a fixed deadline and
//     classifies the result.
//   - Coordinator: runs one probe per target concurrently and streams an
//     Event for every target as soon as it completes.
//   - ResourceManager: optional bound on the number of outstanding attempts.
//
// # Usage
//
//	network := netrange.MustParse("192.168.1.0/24")
//	targets := scanning.BuildTargets(network.Addresses(), ports.MustParse("22,80,443"))
//
//	coordinator := scanning.NewCoordinator(scanning.CoordinatorConfig{})
//	stream := coordinator.Run(ctx, targets)
//	for event := range stream.Events() {
//		if event.Err != nil {
//			// task failure for event.Target
//			continue
//		}
//		fmt.Println(event.Result.Endpoint, event.Result.Status)
//	}
//	if err := stream.Err(); err != nil {
//		// target construction failed, the run is unusable
//	}
//
// Completion order is a race: events arrive in the order attempts finish,
// not in submission order. Every submitted target yields exactly one event.
package scanning
