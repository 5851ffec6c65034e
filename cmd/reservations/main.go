package main

import "github.com/joho/godotenv"

func main() {
	// A missing .env is fine; real deployments inject the environment.
	_ = godotenv.Load()
	Execute()
}
