/*

Process of compilation

DSL Body ->
	flow ->
Basic Block Tapes (tape) ->
	opt ->
Optimized Tapes ->
	finalize ->
Program + Cost Estimate ->
	exec ->
Evaluated Memory (testing)

*/
package compiler
