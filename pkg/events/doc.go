/*
Package events provides an in-memory event broker for deployd.

The ping handler and the promoter publish what they decided (a deploy
promoted, an agent paused by the system, an obsolete agent record deleted)
so that other components can react without being wired into either engine.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.EnvID, ev.Message)
		}
	}()

Publish never blocks. Events are dropped when the broker queue is full, and
a subscriber whose buffer is full misses the event. Events are a
notification stream, not a source of truth: storage is.
*/
package events
