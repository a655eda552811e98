// Package buildsys runs tasks.star scripts: Starlark declares the tasks, mvdan.cc/sh executes their
// shell commands and the pipeline package handles transform() steps. Sub-projects use it to describe
// how their dist/ directory is produced.
package buildsys
