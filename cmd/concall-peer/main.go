// concall-peer is a headless conference participant: it connects to the
// relay, joins a room, and negotiates a peer connection with every other
// member.
package main

func main() {
	Execute()
}
