package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout shared with the rest of the automation bus
const (
	TopicGammaContextBase = "automation/context/gamma"
	TopicGammaCommandBase = "automation/command/gamma"
	TopicGammaStatusBase  = "automation/status/gamma"
)

// GammaContextTopic is where the applied gamma state is published (retained)
// Pattern: automation/context/gamma/{name}
func GammaContextTopic(name string) string {
	return fmt.Sprintf("%s/%s", TopicGammaContextBase, name)
}

// GammaCommandTopic is where pause/resume commands are received
// Pattern: automation/command/gamma/{name}
func GammaCommandTopic(name string) string {
	return fmt.Sprintf("%s/%s", TopicGammaCommandBase, name)
}

// GammaStatusTopic carries "online"/"offline", the latter as last will
// Pattern: automation/status/gamma/{name}
func GammaStatusTopic(name string) string {
	return fmt.Sprintf("%s/%s", TopicGammaStatusBase, name)
}

// NameFromTopic extracts the trailing {name} segment of a gamma topic
func NameFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "automation" || parts[2] != "gamma" {
		return "", false
	}
	return parts[3], parts[3] != ""
}
