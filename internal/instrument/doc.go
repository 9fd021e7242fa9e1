// Package instrument provides the in-memory mock tools of the camera
// system. They keep state and validate input the way real drivers would but
// never talk to hardware.
//
// Every tool is built on tool.Base and so carries a "fault" attribute. When
// it is set, mutating methods fail with that message, which lets tests and
// operators exercise error paths end to end.
//
// Tools are not safe for concurrent use on their own. The dispatcher holds
// the per-tool lock around every call.
package instrument
