// Command weft regenerates derived Go artifacts from templates.
package main

import "github.com/papapumpkin/weft/cmd"

func main() {
	cmd.Execute()
}
