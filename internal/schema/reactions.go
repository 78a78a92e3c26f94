package schema

// reactionSet is the closed set of emoji Telegram accepts as message
// reactions. Producers should stay inside it; the dispatcher passes values
// through opaquely and lets the platform reject strays.
var reactionSet = map[string]struct{}{}

var reactions = []string{
	"👍", "👎", "❤", "🔥", "🥰", "👏", "😁", "🤔", "🤯", "😱", "🤬", "😢", "🎉", "🤩", "🤮",
	"💩", "🙏", "👌", "🕊", "🤡", "🥱", "🥴", "😍", "🐳", "❤‍🔥", "🌚", "🌭", "💯", "🤣", "⚡",
	"🍌", "🏆", "💔", "🤨", "😐", "🍓", "🍾", "💋", "🖕", "😈", "😴", "😭", "🤓", "👻", "👨‍💻",
	"👀", "🎃", "🙈", "😇", "😨", "🤝", "✍", "🤗", "🫡", "🎅", "🎄", "☃", "💅", "🤪", "🗿",
	"🆒", "💘", "🙉", "🦄", "😘", "💊", "🙊", "😎", "👾", "🤷‍♂", "🤷", "🤷‍♀", "😡",
}

func init() {
	for _, r := range reactions {
		reactionSet[r] = struct{}{}
	}
}

// AllowedReaction reports whether emoji is in the platform's reaction set.
func AllowedReaction(emoji string) bool {
	_, ok := reactionSet[emoji]
	return ok
}
