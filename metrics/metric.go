// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package metrics provides tpoll runtime monitoring data, such as the
// number of kernel waits, delivered events and wakeups, which is a good
// tool for tuning event loops built on top of the poller.
package metrics

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// All metrics definitions.
const (
	// Wait path
	PollWait = iota
	PollNoWait
	PollEvents
	PollWakeups
	WaitRejects

	// Notify path
	NotifyCalls
	NotifySuppressed

	// Control path
	Inserts
	Interests
	Removes
	Max
)

var (
	metrics [Max]atomic.Uint64
)

// Add metrics counter.
func Add(name int, delta uint64) {
	if name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get one metric counter.
func Get(name int) uint64 {
	if name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// GetAll get all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then prints metrics info.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	cur := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = cur[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics shows metric info in console.
func ShowMetrics() {
	m := GetAll()
	showAll(m)
}

func showAll(m [Max]uint64) {
	fmt.Println("######### tpoll metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	showWaitMetrics(m)
	showNotifyMetrics(m)
	showControlMetrics(m)
	fmt.Printf("\n")
}

func showWaitMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# WAIT - number of kernel wait returns (tag:b)", m[PollWait])
	fmt.Printf("%-59s: %d\n", "# WAIT - number of non-blocking polls (tag:a)", m[PollNoWait])
	fmt.Printf("%-59s: %d\n", "# WAIT - number of delivered kernel events", m[PollEvents])
	fmt.Printf("%-59s: %d\n", "# WAIT - number of internal wakeup events", m[PollWakeups])
	fmt.Printf("%-59s: %d\n", "# WAIT - number of concurrent waiters rejected", m[WaitRejects])
	if m[PollWait] > 0 {
		fmt.Printf("%-59s: %.2f%%\n", "# WAIT - a/b * 100%", float32(m[PollNoWait])*100/float32(m[PollWait]))
		fmt.Printf("%-59s: %.2f\n", "# WAIT - average events number per wait",
			float32(m[PollEvents])/float32(m[PollWait]))
	}
}

func showNotifyMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# NOTIFY - number of notify calls", m[NotifyCalls])
	fmt.Printf("%-59s: %d\n", "# NOTIFY - number of notifies coalesced into a pending one", m[NotifySuppressed])
}

func showControlMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# CTRL - number of handles inserted", m[Inserts])
	fmt.Printf("%-59s: %d\n", "# CTRL - number of interest re-arms", m[Interests])
	fmt.Printf("%-59s: %d\n", "# CTRL - number of handles removed", m[Removes])
}
