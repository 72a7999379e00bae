package buildsys

// DefaultSettings describes the built-in coffee task
type DefaultSettings struct {
	Base    string
	Pattern string
	Dest    string
	Ext     string
	Bare    bool
}

// DefaultRegistry returns the task set used when no tasks.star exists: "coffee" compiles all
// files matching Pattern into Dest and "default" runs "coffee".
func DefaultRegistry(settings DefaultSettings, translator Translator) (*Registry, error) {
	registry := NewRegistry()

	stage := &Stage{
		Base:       settings.Base,
		Pattern:    settings.Pattern,
		Dest:       settings.Dest,
		Ext:        settings.Ext,
		Options:    Options{Bare: settings.Bare},
		Translator: translator,
	}

	_, err := registry.Register("coffee", "Compiles CoffeeScript sources to JavaScript", stage.Task())
	if err != nil {
		return nil, err
	}

	body, err := registry.Series("coffee")
	if err != nil {
		return nil, err
	}

	_, err = registry.Register("default", "Runs coffee", body)
	if err != nil {
		return nil, err
	}

	return registry, nil
}
