package main

import (
	"github.com/orders-platform/order-processing/cmd"
)

func main() {
	cmd.Execute()
}
