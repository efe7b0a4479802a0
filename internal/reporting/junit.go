package reporting

import (
	"encoding/xml"
	"fmt"
	"os"
	"time"

	"github.com/spboyer/typecheck-runner/internal/runner"
)

// JUnit XML schema types

// JUnitTestSuites is the top-level container.
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Errors     int              `xml:"errors,attr"`
	Time       float64          `xml:"time,attr"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite maps to one typecheck-runner invocation.
type JUnitTestSuite struct {
	XMLName    xml.Name        `xml:"testsuite"`
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Skipped    int             `xml:"skipped,attr"`
	Time       float64         `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr"`
	Properties []JUnitProperty `xml:"properties>property,omitempty"`
	TestCases  []JUnitTestCase `xml:"testcase"`
}

// JUnitTestCase maps to one checker.
type JUnitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Error     *JUnitError   `xml:"error,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

// JUnitFailure is a checker that ran and reported problems.
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// JUnitError is a checker that could not be started.
type JUnitError struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// JUnitSkipped marks a dry-run checker.
type JUnitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// JUnitProperty is a key-value metadata entry.
type JUnitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ConvertToJUnit converts a run summary to JUnit XML format.
func ConvertToJUnit(summary *runner.Summary, timestamp time.Time) *JUnitTestSuites {
	suite := JUnitTestSuite{
		Name:      "typecheck-runner",
		Timestamp: timestamp.Format(time.RFC3339),
		Properties: []JUnitProperty{
			{Name: "state", Value: string(summary.State)},
			{Name: "exit_code", Value: fmt.Sprintf("%d", summary.ExitCode)},
		},
	}

	for _, res := range summary.Results {
		tc := convertResult(res)
		switch {
		case tc.Error != nil:
			suite.Errors++
		case tc.Failure != nil:
			suite.Failures++
		case tc.Skipped != nil:
			suite.Skipped++
		}
		suite.Time += tc.Time
		suite.TestCases = append(suite.TestCases, tc)
	}
	suite.Tests = len(suite.TestCases)

	return &JUnitTestSuites{
		Tests:      suite.Tests,
		Failures:   suite.Failures,
		Errors:     suite.Errors,
		Time:       suite.Time,
		TestSuites: []JUnitTestSuite{suite},
	}
}

func convertResult(res runner.Result) JUnitTestCase {
	tc := JUnitTestCase{
		Name:      res.Checker,
		Classname: "typecheck-runner." + res.Checker,
		Time:      res.Duration.Seconds(),
		SystemOut: CommandLine(res),
	}

	switch {
	case res.DryRun:
		tc.Skipped = &JUnitSkipped{Message: "dry run"}
	case res.Err != nil:
		tc.Error = &JUnitError{
			Message: res.Err.Error(),
			Type:    "LaunchError",
			Body:    fmt.Sprintf("exit code %d", res.ExitCode),
		}
	case !res.OK():
		tc.Failure = &JUnitFailure{
			Message: fmt.Sprintf("%s exited with code %d", res.Checker, res.ExitCode),
			Type:    "CheckerFailure",
			Body:    CommandLine(res),
		}
	}
	return tc
}

// WriteJUnitXML writes JUnit XML to the specified file path.
func WriteJUnitXML(summary *runner.Summary, timestamp time.Time, path string) error {
	suites := ConvertToJUnit(summary, timestamp)

	data, err := xml.MarshalIndent(suites, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JUnit XML: %w", err)
	}

	output := append([]byte(xml.Header), data...)
	return os.WriteFile(path, output, 0644)
}
