// Package notifybus fans core notifications out to any number of subscribers.
//
// Notifications are what the core reports to its UI and network collaborators:
// catalog listings, playback length/position/done, recording start/stop and
// failures. Publish never blocks; a subscriber whose channel is full loses the
// notification and the loss is counted.
//
// # Basic Usage
//
//	bus := notifybus.New()
//	defer bus.Close()
//
//	ch := make(chan notifybus.Notification, 32)
//	bus.Subscribe("mqtt", ch)
//
//	bus.Publish(notifybus.Notification{Kind: notifybus.RecordingStarted, File: "mov_10_11_12.tmjsn"})
//
// Subscribers that only care about one consumer filter on Notification.Consumer;
// an empty Consumer addresses everyone.
package notifybus
