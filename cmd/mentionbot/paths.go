package main

import "tools.zach/dev/mentionbot/internal/paths"

// DataPaths lets the daemon refer to data-dir files without qualifying the
// internal package, whose name the local variables in run shadow.
type DataPaths = paths.DataDir
