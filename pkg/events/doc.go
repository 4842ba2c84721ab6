// Package events provides an in-memory event broker for the sync core's
// own lifecycle notifications.
//
// This is not the replication protocol itself — DOWNLOAD/UPLOAD/bootstrap
// messages flow through pkg/wire and pkg/coordinator. It is the thin
// notification layer a host application (or the CLI diagnostic tool) can
// subscribe to in order to observe a session's progress without polling:
// commit broadcasts, download/upload batches integrated, a subscription
// set reaching Complete, or a pending error surfacing.
//
// # Event Flow
//
// Publish is non-blocking: an event is dropped rather than stalling the
// coordinator tick or session loop that produced it. Each subscriber gets
// its own buffered channel; a slow subscriber only ever drops events for
// itself.
//
//	broker := events.NewBroker()
//	broker.Start()
//	defer broker.Stop()
//
//	sub := broker.Subscribe()
//	defer broker.Unsubscribe(sub)
//
//	go func() {
//		for ev := range sub {
//			log.Printf("%s: %s", ev.Type, ev.Message)
//		}
//	}()
//
//	broker.Publish(events.New(events.CommitAvailable, "local commit observed"))
//
// # Event Types
//
// CommitAvailable: a coordinator observed a new local commit and woke its
// background worker (spec.md §4.E). Metadata carries no session identity,
// since commit broadcast is file-scoped, not session-scoped.
//
// DownloadIntegrated: history.IntegrateServerChangesets applied a batch of
// remote changesets, advancing the client's download cursor.
//
// UploadSent: a batch of local changesets was handed to the wire layer for
// upload.
//
// SubscriptionComplete: a subscription set reached Complete and superseded
// every older set (spec.md §4.J, Property 6).
//
// PendingErrorRaised: a PendingError was recorded for later delivery once
// the server version catches up.
//
// # Limitations
//
// In-memory only: events are not persisted, and a subscriber that wasn't
// listening when an event was published has no way to retrieve it after
// the fact. Use the history/bootstrap stores for anything that needs a
// durable record.
package events
