package main

import "github.com/surge-downloader/odoo-images/cmd"

func main() {
	cmd.Execute()
}
