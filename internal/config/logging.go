package config

// LoggingConfig selects where yat logs and how much.
//
// Level applies to every category. debug_mode turns on the per-category
// switches in Categories; a category missing from the map stays on.
type LoggingConfig struct {
	Level      string          `yaml:"level"` // debug, info, warn, error
	Format     string          `yaml:"format"`
	File       string          `yaml:"file"` // written in addition to stderr
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
}

// IsCategoryEnabled reports whether category may log at all. Outside debug
// mode the switches are ignored and only Level filters.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode || c.Categories == nil {
		return true
	}
	enabled, ok := c.Categories[category]
	return !ok || enabled
}
