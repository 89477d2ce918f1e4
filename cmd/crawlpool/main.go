// Command crawlpool runs an autoscaling, deduplicating web crawl.
package main

import "github.com/JakeFAU/crawlpool/cmd"

func main() {
	cmd.Execute()
}
