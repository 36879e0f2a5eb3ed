package scan

/*
Package scan runs external vulnerability scanners against resolved images.

The main functions and types in this package are:

Runner
    Dispatches a scan to the backend registered under a name.

    RunScan(ctx, image, backend)
        Returns the ScanResult of the named backend. An unregistered name
        yields an unknown-backend user error.

Backend
    One scanner. Scanners that ran but failed report OK=false together with
    their stderr; the error return is reserved for scanners that could not be
    started.

SnykBackend
    Runs `snyk container test <image> --json`. Exit codes 0 and 1 are
    successes (clean, vulnerabilities found); 2, 3 and anything else are
    failures. Stdout is kept verbatim and never interpreted here.

Example usage:

    runner := scan.NewRunner(
        scan.NewSnykBackend(executor.NewInheritingCommandExecutor(), "", nil, nil),
    )
    result, err := runner.RunScan(ctx, image, scan.SnykBackendName)
    if err != nil {
        // Handle error
    }
    if !result.OK {
        // The scanner ran and failed; result.Stderr says why
    }
*/
