// Command xpath-healer evaluates and repairs XPath locators against captured
// mobile page sources.
package main

import "github.com/devicelab-dev/xpath-healer/pkg/cli"

func main() {
	cli.Execute()
}
