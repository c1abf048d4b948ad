package Euler3D

// WENOEpsilon keeps the nonlinear weights finite on flat data
const WENOEpsilon = 1.e-6

// WENO5 returns the Jiang-Shu reconstruction at the right face of the
// centre cell v2 of the stencil v0..v4. The value at the left face of a
// cell is WENO5 applied to the mirrored stencil.
func WENO5(v0, v1, v2, v3, v4 float64) (q float64) {
	var (
		p0 = (2.*v0 - 7.*v1 + 11.*v2) / 6.
		p1 = (-v1 + 5.*v2 + 2.*v3) / 6.
		p2 = (2.*v2 + 5.*v3 - v4) / 6.
		a  = v0 - 2.*v1 + v2
		b  = v0 - 4.*v1 + 3.*v2
		b0 = 13./12.*a*a + 0.25*b*b
	)
	a, b = v1-2.*v2+v3, v1-v3
	b1 := 13./12.*a*a + 0.25*b*b
	a, b = v2-2.*v3+v4, 3.*v2-4.*v3+v4
	b2 := 13./12.*a*a + 0.25*b*b
	var (
		a0 = 0.1 / ((WENOEpsilon + b0) * (WENOEpsilon + b0))
		a1 = 0.6 / ((WENOEpsilon + b1) * (WENOEpsilon + b1))
		a2 = 0.3 / ((WENOEpsilon + b2) * (WENOEpsilon + b2))
	)
	q = (a0*p0 + a1*p1 + a2*p2) / (a0 + a1 + a2)
	return
}

// ReconstructFace returns the left and right states at the face between
// pencil cells f-1 and f, where pencil[f] is cell f-Width of the tile
// interior. Valid faces are f in [Width, n+Width].
func ReconstructFace(pencil []float64, f int) (qL, qR float64) {
	qL = WENO5(pencil[f-3], pencil[f-2], pencil[f-1], pencil[f], pencil[f+1])
	qR = WENO5(pencil[f+2], pencil[f+1], pencil[f], pencil[f-1], pencil[f-2])
	return
}
