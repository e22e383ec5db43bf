//go:build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const binary = "bin/xpath-healer"

// Default target - build the binary
var Default = Build

// Build builds the xpath-healer binary
func Build() error {
	version := os.Getenv("VERSION")
	if version == "" {
		version = "dev"
	}
	ldflags := "-X github.com/devicelab-dev/xpath-healer/pkg/cli.Version=" + version
	return sh.RunV("go", "build", "-ldflags", ldflags, "-o", binary, "./cmd/xpath-healer")
}

// Test runs the test suite with the race detector
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Lint runs gofmt, go vet and staticcheck when installed
func Lint() error {
	out, err := sh.Output("gofmt", "-l", "pkg", "cmd")
	if err != nil {
		return err
	}
	if out != "" {
		return fmt.Errorf("unformatted files:\n%s", out)
	}
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}
	if _, err := exec.LookPath("staticcheck"); err != nil {
		fmt.Println("staticcheck not found (install: go install honnef.co/go/tools/cmd/staticcheck@latest)")
		return nil
	}
	return sh.RunV("staticcheck", "./...")
}

// QA runs lint and tests
func QA() {
	mg.SerialDeps(Lint, Test)
}

// Clean removes build artifacts
func Clean() error {
	return sh.Rm("bin")
}
