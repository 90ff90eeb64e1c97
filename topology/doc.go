// Package topology builds and runs the component graph described by a
// configuration: it resolves producer outputs to consumer inputs,
// constructs the buffer for every edge, wraps each output in a fanout,
// and drives sources, transforms, and sinks through their lifecycle.
//
// The runtime supports live reconfiguration. Reload diffs the new
// configuration against the running one and applies only the changes;
// buffers on unchanged edges keep their contents. Shutdown is staged:
// sources drain first, then transforms, then sinks, each stage bounded
// by the shutdown timeout.
package topology
