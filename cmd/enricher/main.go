// Command enricher runs the recipe import and enrichment service.
package main

func main() {
	Execute()
}
