// Package flow provides cold, demand-driven streams.
//
// A Stream runs its producer in a dedicated goroutine per subscription. The
// consumer signals how many elements it is ready for with Request and tears
// the producer down with Cancel. The producer sees the outstanding demand
// through its Sink and must not emit beyond it.
//
//	sub := stream.Subscribe(ctx)
//	defer sub.Cancel()
//	sub.Request(10)
//	for sig := range sub.Signals() {
//		switch sig.Kind {
//		case flow.KindNext:
//			use(sig.Value)
//		case flow.KindError:
//			return sig.Err
//		}
//	}
//
// A producer that returns without completing ends the stream silently: the
// signal channel is closed without a terminal signal.
package flow
