package domain

var colors = []string{
	"red", "pink", "purple", "deep_purple", "indigo",
	"blue", "light_blue", "cyan", "teal", "green",
	"light_green", "orange", "deep_orange", "amber", "blue_grey",
}

// DisplayColor derives a stable avatar color from the display name.
// Nameless private conversations are grey, groups use the default.
func (c *Conversation) DisplayColor() string {
	if c.Color != "" {
		return c.Color
	}
	if !c.IsPrivate() {
		return "default"
	}
	if c.Name == "" {
		return "grey"
	}
	h := hashCode(c.Name)
	if h < 0 {
		h = -h
	}
	return colors[h%int32(len(colors))]
}

// hashCode is the Java-style 32-bit string hash the display layer has
// always used for color assignment, kept for stable colors across
// clients.
func hashCode(s string) int32 {
	var h int32
	for _, r := range s {
		h = (h<<5 - h) + int32(r)
	}
	return h
}
