// Package buildsys implements a small task runner for compiling CoffeeScript sources.
// Tasks live in an explicit Registry and are either declared in Go (see DefaultRegistry) or
// in a Starlark script (tasks.star). The main building block is the file pipeline Stage which
// reads every file matching a glob, runs it through a Translator and writes the result below
// a destination directory.
package buildsys
