// Package fractal generates cube fractals (Menger sponge, Jeruzalem cube and
// custom variants) by recursive subdivision of an axis-aligned box.
//
// A RuleSet decides which cells of the (2R+1)^3 neighborhood survive each
// step. Generate walks the rule set over an initial Box and hands every leaf
// box to an emit callback; it holds no state between calls.
package fractal
