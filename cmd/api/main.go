package main

import "log"

func main() {

	server, err := InitializeServer()
	if err != nil {
		log.Fatal(err)
		return
	}

	if err = server.Run(); err != nil {
		log.Fatal(err.Error())
	}

}
