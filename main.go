package main

import "github.com/ValentinKolb/dkv-admin/cmd"

func main() {
	cmd.Execute()
}
