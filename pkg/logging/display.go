// Package logging prints translator progress and diagnostics to the console.
package logging

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
)

var (
	SuccessColorFG = pterm.FgLightGreen
	SuccessStyleBG = pterm.NewStyle(pterm.BgLightGreen, pterm.FgBlack)
	WarnColorFG    = pterm.FgYellow
	WarnStyleBG    = pterm.NewStyle(pterm.BgYellow, pterm.FgBlack)
	ErrorColorFG   = pterm.FgRed
	ErrorStyleBG   = pterm.NewStyle(pterm.BgRed, pterm.FgWhite)
	InfoColorFG    = pterm.FgLightCyan
	InfoStyleBG    = pterm.NewStyle(pterm.BgLightCyan, pterm.FgBlack)
)

// PrintErrorMessage prints a standard Go error to the console
func PrintErrorMessage(tag string, err error) {
	ErrorStyleBG.Print(tag)
	ErrorColorFG.Println(" " + err.Error())
}

// PrintWarningMessage prints a warning message to the console
func PrintWarningMessage(tag, msg string) {
	WarnStyleBG.Print(tag)
	WarnColorFG.Println(" " + msg)
}

// PrintInfoMessage prints an informational message to the user
func PrintInfoMessage(tag, msg string) {
	InfoStyleBG.Print(tag)
	InfoColorFG.Println(" " + msg)
}

// PrintSuccessMessage prints a closing success message
func PrintSuccessMessage(tag, msg string) {
	SuccessStyleBG.Print(tag)
	SuccessColorFG.Println(" " + msg)
}

// displayHeader prints the version banner before a run
func displayHeader(version, project string) {
	fmt.Print("carcinize ")
	InfoColorFG.Print("v" + version)
	fmt.Print(" -- project: ")
	InfoColorFG.Println(project)
}

var phaseSpinner *pterm.SpinnerPrinter
var currentPhase string
var phaseStartTime time.Time

const maxPhaseLength = len("Synthesizing")

func padPhase(phase string) string {
	pad := maxPhaseLength - len(phase) + 2
	if pad < 1 {
		pad = 1
	}
	return phase + strings.Repeat(" ", pad)
}

// displayBeginPhase starts a spinner for a pipeline phase
func displayBeginPhase(phase string) {
	currentPhase = phase
	phaseSpinner = pterm.DefaultSpinner.WithStyle(pterm.NewStyle(InfoColorFG))

	phaseSpinner.SuccessPrinter = &pterm.PrefixPrinter{
		MessageStyle: pterm.NewStyle(pterm.FgDefault),
		Prefix: pterm.Prefix{
			Style: SuccessStyleBG,
			Text:  "Done",
		},
	}

	phaseSpinner.FailPrinter = &pterm.PrefixPrinter{
		MessageStyle: pterm.NewStyle(pterm.FgDefault),
		Prefix: pterm.Prefix{
			Style: ErrorStyleBG,
			Text:  "Fail",
		},
	}

	phaseSpinner.Start(padPhase(phase) + "...")
	phaseStartTime = time.Now()
}

// displayEndPhase stops the current spinner
func displayEndPhase(success bool) {
	if phaseSpinner == nil {
		return
	}
	elapsed := fmt.Sprintf("(%.3fs)", time.Since(phaseStartTime).Seconds())
	if success {
		phaseSpinner.Success(padPhase(currentPhase), elapsed)
	} else {
		phaseSpinner.Fail(padPhase(currentPhase), elapsed)
	}
	phaseSpinner = nil
}
