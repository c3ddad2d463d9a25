package model

// Color is one entry of the event colour palette.
type Color struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Hex   string `json:"hex"`
}

var Colors = []Color{
	{Name: "Blue", Value: "blue", Hex: "#3b82f6"},
	{Name: "Green", Value: "green", Hex: "#22c55e"},
	{Name: "Red", Value: "red", Hex: "#ef4444"},
	{Name: "Yellow", Value: "yellow", Hex: "#eab308"},
	{Name: "Purple", Value: "purple", Hex: "#a855f7"},
	{Name: "Pink", Value: "pink", Hex: "#ec4899"},
	{Name: "Indigo", Value: "indigo", Hex: "#6366f1"},
	{Name: "Teal", Value: "teal", Hex: "#14b8a6"},
}

// DefaultColor is used for events created without a colour.
var DefaultColor = Colors[0].Value

// ColorHex returns the hex code for a palette value, falling back to the
// default colour for unknown values.
func ColorHex(value string) string {
	for _, c := range Colors {
		if c.Value == value {
			return c.Hex
		}
	}
	return Colors[0].Hex
}
