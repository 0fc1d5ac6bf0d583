package pairing

// Verhoeff check-digit tables (the dihedral-group multiplication,
// permutation, and inverse tables from the standard Verhoeff algorithm),
// used to append/validate the 11th digit of a manual pairing code so a
// single mistyped or transposed digit is always caught.

var verhoeffMul = [10][10]int{
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	{1, 2, 3, 4, 0, 6, 7, 8, 9, 5},
	{2, 3, 4, 0, 1, 7, 8, 9, 5, 6},
	{3, 4, 0, 1, 2, 8, 9, 5, 6, 7},
	{4, 0, 1, 2, 3, 9, 5, 6, 7, 8},
	{5, 9, 8, 7, 6, 0, 4, 3, 2, 1},
	{6, 5, 9, 8, 7, 1, 0, 4, 3, 2},
	{7, 6, 5, 9, 8, 2, 1, 0, 4, 3},
	{8, 7, 6, 5, 9, 3, 2, 1, 0, 4},
	{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
}

var verhoeffPerm = [8][10]int{
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	{1, 5, 7, 6, 2, 8, 3, 0, 9, 4},
	{5, 8, 0, 3, 7, 9, 6, 1, 4, 2},
	{8, 9, 1, 6, 0, 4, 3, 5, 2, 7},
	{9, 4, 5, 3, 1, 2, 6, 8, 7, 0},
	{4, 2, 8, 6, 5, 7, 3, 9, 0, 1},
	{2, 7, 9, 3, 8, 0, 6, 4, 1, 5},
	{7, 0, 4, 6, 9, 1, 3, 2, 5, 8},
}

var verhoeffInv = [10]int{0, 4, 3, 2, 1, 5, 6, 7, 8, 9}

// verhoeffGenerate computes the check digit for digits, given most
// significant digit first.
func verhoeffGenerate(digits []int) int {
	c := 0
	for i, n := 0, len(digits); i < n; i++ {
		digit := digits[n-1-i]
		c = verhoeffMul[c][verhoeffPerm[(i+1)%8][digit]]
	}
	return verhoeffInv[c]
}

// verhoeffValidate reports whether digits (most significant first,
// including the trailing check digit) form a valid Verhoeff sequence.
func verhoeffValidate(digits []int) bool {
	c := 0
	for i, n := 0, len(digits); i < n; i++ {
		digit := digits[n-1-i]
		c = verhoeffMul[c][verhoeffPerm[i%8][digit]]
	}
	return c == 0
}
