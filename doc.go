// Package fedsync coordinates timing and state agreement between federates of
// a simulation, and between the threads of one federate.
//
// A Federate wires the pieces of one participant together: the
// synchronization-point Manager talking to the federation through a gateway,
// the thread Coordinator handing shared data between the main thread and its
// workers, and the tick Runtime driving both. Run executes a whole federate
// lifetime:
//
//  1. register every list the federate owns and wait for the federation to
//     announce the points;
//  2. achieve the startup lists and wait until every federate has;
//  3. run the ticks, achieving timed points as simulation time reaches them;
//  4. achieve the shutdown lists, checkpoint, and resign.
//
// RunFederation does the same for every federate of a FederationConfig over an
// in-process loopback federation.
//
// # Configuration
//
//	name: moon
//	ticks: 20
//	federates:
//	  - name: lander
//	    lists:
//	      - name: init
//	        register: true
//	        points: [{label: INIT}, {label: STARTUP}]
//	    threads:
//	      main_cycle: 10ms
//	      workers: [{id: 1, cycle: 30ms}]
//	      objects: [{name: lander, threads: [0, 1]}]
//
// LoadFederationConfig reads such a file; builder offers the same in code.
package fedsync
