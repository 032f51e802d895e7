// Command dockboot-hello re-runs itself in three alpine containers on one
// network. Each worker greets and exits; the master waits for all of them.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/RevCBH/dockboot/internal/bootstrap"
	"github.com/RevCBH/dockboot/internal/container"
	"github.com/RevCBH/dockboot/internal/image"
)

var greeting = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))

func greet(name string) bootstrap.Task {
	return func(ctx context.Context) error {
		host, _ := os.Hostname()
		fmt.Println(greeting.Render(fmt.Sprintf("hello, world from %s (%s)", name, host)))
		return nil
	}
}

func main() {
	alpine := image.NewBuild(image.NewDockerfile(image.From("alpine")))

	var entries []bootstrap.Entry
	for _, name := range []string{"greeter", "welcomer", "hailer"} {
		spec := container.New(name, alpine).WithWait(true)
		entries = append(entries, bootstrap.Run(spec, greet(name)))
	}

	bootstrap.Main("hello_example", entries...)
}
