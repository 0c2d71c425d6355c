package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"trial-monitor/monitor"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var targetName string
	var csvPath string
	var yamlPath string
	var description string
	var replace bool

	flag.StringVar(&targetName, "target", "", "Target name to add trials to (e.g. CCR8, TIGIT).")
	flag.StringVar(&csvPath, "csv", "data/ctg-studies.csv", "Studies CSV export path.")
	flag.StringVar(&yamlPath, "yaml", "trials.yaml", "Targets config file to update.")
	flag.StringVar(&description, "description", "", "Target description (for new targets).")
	flag.BoolVar(&replace, "replace", false, "Replace the target's existing trials instead of adding.")
	flag.Parse()

	if targetName == "" {
		fmt.Fprintln(os.Stderr, "missing target name (use --target=...)")
		os.Exit(2)
	}

	tf := &monitor.TargetsFile{}
	if _, err := os.Stat(yamlPath); err == nil {
		loaded, err := monitor.LoadTargets(yamlPath)
		if err != nil {
			log.Fatalf("load targets: %v", err)
		}
		tf = loaded
	}

	trials, err := monitor.ReadTrialsCSV(csvPath)
	if err != nil {
		log.Fatalf("read CSV: %v", err)
	}
	if len(trials) == 0 {
		fmt.Fprintln(os.Stderr, "no valid trials found in CSV")
		os.Exit(1)
	}
	log.Printf("found %d trials in CSV", len(trials))

	added := monitor.MergeTrials(tf, targetName, description, trials, replace)
	if t := tf.FindTarget(targetName); t != nil {
		log.Printf("target %q: %d new trials added, %d total", targetName, added, len(t.Trials))
	}

	if err := monitor.SaveTargets(yamlPath, tf); err != nil {
		log.Fatalf("save targets: %v", err)
	}
	log.Printf("saved %s", yamlPath)
}
