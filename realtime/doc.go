// Package realtime coordinates the threads of one federate around the
// federation data exchange, and provides a tick runtime that drives them.
//
// The main thread runs at the finest data cycle and owns the exchange with
// the federation. Worker threads run at integer multiples of the main cycle
// and touch shared objects. The Coordinator hands the shared data between
// them with a four-call barrier per main tick:
//
//	coord.AnnounceDataAvailable() // main: incoming data is ready
//	coord.WaitToReceiveData(ctx)  // every thread, before reading
//	coord.WaitToSendData(ctx)     // every thread, before handing data off
//	coord.AnnounceDataSent()      // main: outgoing data has been sent
//
// A worker with cycle k*main receives at the start of its cycle
// (t mod cycle == 0) and sends at the main tick that ends it
// ((t - (cycle - main)) mod cycle == 0), so it never sends early and is never
// asked to receive mid-cycle.
//
// # Setup
//
//	rt := realtime.NewRuntime(realtime.Config{TimeStep: 10 * time.Millisecond})
//	_ = rt.AddWorker(realtime.Worker{ID: 1, Cycle: 30 * time.Millisecond, Job: physics})
//	coord := realtime.NewCoordinator(rt)
//	_ = coord.Initialize(10*time.Millisecond, []primitives.SharedObject{{Name: "lander", Threads: []int{0, 1}}})
//	_ = coord.Associate(1, 30*time.Millisecond)
//	_ = coord.Verify()
//	rt.Attach(coord)
//	rt.SetMain(exchange)
//	err := rt.Run(ctx)
//
// Setup problems (non-harmonic cycles, thread count drift, objects naming
// threads that never associate) are configuration errors and go through the
// coordinator's terminator before simulation starts.
//
// # Runtime
//
// Runtime implements federation.Scheduler. Each tick it advances simulation
// time by TimeStep, starts the workers whose cycle begins, and runs the
// main job between the barrier calls. TickRate paces ticks against the wall
// clock; zero runs them back to back, which keeps tests deterministic.
package realtime
