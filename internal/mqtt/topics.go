package mqtt

import "strings"

const (
	commandSuffix  = "command"
	broadcastTopic = "device/command"
)

// CommandTopics returns the subscription set for a device, most specific
// first: the device's own command topic, its full hierarchical path, every
// parent prefix of that path, and finally the fleet-wide broadcast. A topic
// appearing more than once is kept at its first position.
//
// A devicePath of "campus/hall-3/screen-7" yields, between the device topic
// and the broadcast, "campus/hall-3/screen-7/command",
// "campus/hall-3/command", and "campus/command".
func CommandTopics(devicePath, clientID string) []string {
	topics := []string{"device/" + clientID + "/" + commandSuffix}

	path := strings.Trim(strings.TrimSpace(devicePath), "/")
	if path != "" {
		topics = append(topics, path+"/"+commandSuffix)
		segments := strings.Split(path, "/")
		for i := len(segments) - 1; i >= 1; i-- {
			topics = append(topics, strings.Join(segments[:i], "/")+"/"+commandSuffix)
		}
	}
	topics = append(topics, broadcastTopic)

	seen := make(map[string]struct{}, len(topics))
	out := topics[:0]
	for _, topic := range topics {
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
	}
	return out
}

// HeartbeatTopic returns the topic liveness beacons are published on.
func HeartbeatTopic(clientID string) string {
	return "device/" + clientID + "/heartbeat"
}

// StatusTopic returns the topic full state reports are published on.
func StatusTopic(clientID string) string {
	return "device/" + clientID + "/status"
}

// AckTopic returns the topic command acknowledgments are published on.
func AckTopic(clientID string) string {
	return "device/" + clientID + "/ack"
}
