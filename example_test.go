package sfsmonitor_test

import (
	"fmt"
	"log"

	sfsmonitor "github.com/KnowMeGit/SFSMonitor"
)

type loggingDelegate struct{}

func (loggingDelegate) ReceivedNotification(mask sfsmonitor.EventMask, path string, m *sfsmonitor.Monitor) {
	fmt.Printf("%s: %s (%d watched)\n", path, mask, m.Count())
}

func Example() {
	m := sfsmonitor.NewMonitor(loggingDelegate{})
	defer m.Close()

	if err := m.Add("/etc/hosts", sfsmonitor.AllEvents); err != nil {
		log.Fatal(err)
	}
	if err := m.Add("/var/log", sfsmonitor.Write|sfsmonitor.Delete); err != nil {
		log.Fatal(err)
	}

	// ... receive notifications on the delegate ...

	m.Remove("/var/log")
}
