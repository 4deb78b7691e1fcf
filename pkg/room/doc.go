/*
Package room implements the Room Router: membership of connections
subscribed to each document key, and fan-out of updates to those
subscribers with origin-based echo suppression.

Rooms are sharded by document key hash across a fixed pool of broker
goroutines (Options.ShardCount), each running its own command loop — the
same buffered-channel-plus-run-loop shape as the teacher's event Broker,
generalized from one global broker to many so that broadcast traffic for
unrelated documents never contends on the same lock.

A connection's outbound queue is owned by its caller, not the Router: a
connection subscribed to several documents passes the same channel to
every Join call, so broadcasts from all of its rooms serialize onto the
one channel a websocket connection's single writer goroutine drains. Once
that channel is full, Broadcast drops the subscriber from the room and
reports it on Router.SlowConsumers rather than blocking delivery to the
rest of the room. The Session Endpoint owns actually closing the
underlying connection when it receives a SlowConsumerEvent.

# Usage

	router := room.New(room.Options{})
	defer router.Stop()

	outbound := make(chan []byte, connectionQueueDepth)
	router.Join(key, connectionID, types.RoleEditor, outbound)
	defer router.Leave(key, connectionID)

	go func() {
		for event := range router.SlowConsumers() {
			closeConnection(event.ConnectionID)
		}
	}()

	for update := range outbound {
		send(update)
	}
*/
package room
