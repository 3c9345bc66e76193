// Package acmi decodes the Tacview ACMI real-time text format.
//
// A stream is a sequence of lines, each of which decodes to exactly one Frame:
//
//	0,ReferenceLatitude=42.0          ReferenceFrame (global properties)
//	#12.5                             TickFrame (time offset in seconds)
//	4001,T=4.0|6.0|1000,Type=Air+...  UpsertFrame (object create or update)
//	-4001                             DeleteFrame (object removed)
//
// Blank lines, comments, the FileType/FileVersion header and the protocol
// preamble decode to Ignorable.
//
// Object coordinates in the T= tuple are relative to the reference origin.
// The Decoder adds the origin it is given so frames carry absolute positions.
// ReferenceContext gathers the origin and start time and owns the logical clock.
//
// Neither type is safe for concurrent use. The ingestion loop owns one of each
// per connection and resets both when the connection drops.
package acmi
