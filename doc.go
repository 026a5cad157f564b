// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

/*
Package piping implements a streaming HTTP rendezvous relay.

A sender and one or more receivers meet on an arbitrary URL path. The sender
uploads with POST or PUT and the receivers download with GET on the same path.
Once one sender and the expected number of receivers are connected, the
sender's request body is streamed directly into every receiver's response
body. Nothing is stored; the relay holds no more than a bounded window of
in-flight chunks per receiver, and the source is read no faster than the
slowest receiver accepts.

A path is an ephemeral rendezvous point. While a transfer is in progress the
path is marked established and rejects new senders and receivers. When the
transfer ends, for any reason, the path becomes available again.

The Relay type is an http.Handler and contains all rendezvous and transfer
state. The Server type wraps it with listener management and teardown.
*/
package piping
