/*
Package process runs one program to completion on behalf of a client and reports how it ended.

A run always produces a Result, never an error: a program that cannot be started is reported with StatusCouldNotLaunch, and a program that outlives its timeout is killed and reported with StatusTimedOut together with whatever it printed before it died. Stdout and stderr are captured in full, and every complete line is also handed to the optional OnStdout/OnStderr observers as it arrives, which is how the server echoes output in verbose mode.

On unix the program is started in its own process group, and a timeout kills the whole group so that children spawned by a shell wrapper do not keep the output pipes open. Windows has no process groups; there only the direct child is killed.

The argument string is split the way a shell would on unix. On Windows it is passed through verbatim as the tail of the command line, since Windows programs parse their own command lines.
*/
package process
