// Package suggest serves candidate phrases: a built-in static phrasebook
// keyed by category, optional phrase packs loaded from disk, and ranked free
// text predictions from the backend when one is configured.
package suggest

// Closed category set. "all" is the ordered concatenation of the others.
const (
	CategoryAll      = "all"
	CategoryEmotions = "emotions"
	CategoryFood     = "food"
	CategoryHome     = "home"
	CategoryHealth   = "health"
	CategorySocial   = "social"
)

var categoryOrder = []string{
	CategoryEmotions,
	CategoryFood,
	CategoryHome,
	CategoryHealth,
	CategorySocial,
}

var builtin = map[string][]string{
	CategoryEmotions: {
		"I'm happy",
		"I'm sad",
		"I'm angry",
		"I'm scared",
		"I'm excited",
		"I'm tired",
		"I'm bored",
	},
	CategoryFood: {
		"I'm hungry",
		"I'm thirsty",
		"I want to eat",
		"I want something to drink",
		"Can I have a snack?",
		"I don't like this food",
		"I'm full",
	},
	CategoryHome: {
		"I want to go home",
		"I need help",
		"I want to watch TV",
		"I want to listen to music",
		"Please open the door",
		"Please turn on the light",
		"I want to rest",
	},
	CategoryHealth: {
		"I don't feel well",
		"I have a headache",
		"I'm in pain",
		"I need my medicine",
		"I need to see a doctor",
		"I feel dizzy",
		"I need to use the bathroom",
	},
	CategorySocial: {
		"Hello",
		"Goodbye",
		"Thank you",
		"Please",
		"Yes",
		"No",
		"How are you?",
		"Nice to see you",
	},
}

// Phrasebook maps categories to ordered phrase lists. It is assembled at
// startup (built-ins plus packs) and read-only afterwards.
type Phrasebook struct {
	categories map[string][]string
	order      []string
}

func NewPhrasebook() *Phrasebook {
	categories := make(map[string][]string, len(builtin))
	for name, phrases := range builtin {
		categories[name] = append([]string(nil), phrases...)
	}
	return &Phrasebook{
		categories: categories,
		order:      append([]string(nil), categoryOrder...),
	}
}

// Categories lists the known categories in display order, "all" first.
func (p *Phrasebook) Categories() []string {
	out := make([]string, 0, len(p.order)+1)
	out = append(out, CategoryAll)
	out = append(out, p.order...)
	return out
}

// Known reports whether a category exists.
func (p *Phrasebook) Known(category string) bool {
	if category == CategoryAll {
		return true
	}
	_, ok := p.categories[category]
	return ok
}

// Phrases returns the ordered list for a category, or nil for an unknown
// one. "all" concatenates every category in display order.
func (p *Phrasebook) Phrases(category string) []string {
	if category == CategoryAll {
		var out []string
		for _, name := range p.order {
			out = append(out, p.categories[name]...)
		}
		return out
	}
	phrases, ok := p.categories[category]
	if !ok {
		return nil
	}
	return append([]string(nil), phrases...)
}

// Merge appends a pack's categories. Existing categories gain the pack's
// phrases at the end; new categories join the display order.
func (p *Phrasebook) Merge(pack Pack) {
	for _, category := range pack.Categories {
		if _, ok := p.categories[category.Name]; !ok {
			p.order = append(p.order, category.Name)
		}
		p.categories[category.Name] = append(p.categories[category.Name], category.Phrases...)
	}
}
